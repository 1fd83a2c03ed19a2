package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	pkgerrors "github.com/pkg/errors"
)

// Attachment is a file attached to a Message.
type Attachment struct {
	Name        string
	ContentType string
	Content     []byte
}

// Message is an HTML email.
type Message struct {
	Subject     string
	HTMLBody    string
	To          []string
	Attachments []Attachment
}

type mailAddress struct {
	EmailAddress struct {
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type mailBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type mailAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes []byte `json:"contentBytes"`
}

type mailMessage struct {
	Subject      string           `json:"subject"`
	Body         mailBody         `json:"body"`
	ToRecipients []mailAddress    `json:"toRecipients"`
	Attachments  []mailAttachment `json:"attachments,omitempty"`
}

type sendMailRequest struct {
	Message         mailMessage `json:"message"`
	SaveToSentItems bool        `json:"saveToSentItems"`
}

// SendMail sends m from the mailbox of sender.
func (c *Client) SendMail(ctx context.Context, sender string, m Message) error {
	if sender == "" {
		return pkgerrors.New("sender is required")
	}
	if len(m.To) == 0 {
		return pkgerrors.New("at least one recipient is required")
	}

	msg := mailMessage{
		Subject: m.Subject,
		Body: mailBody{
			ContentType: "HTML",
			Content:     m.HTMLBody,
		},
	}
	for _, to := range m.To {
		var a mailAddress
		a.EmailAddress.Address = to
		msg.ToRecipients = append(msg.ToRecipients, a)
	}
	for _, att := range m.Attachments {
		msg.Attachments = append(msg.Attachments, mailAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         att.Name,
			ContentType:  att.ContentType,
			ContentBytes: att.Content,
		})
	}

	payload, err := json.Marshal(sendMailRequest{Message: msg})
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to marshal message")
	}

	_, err = c.Send(ctx, http.MethodPost, "/users/"+url.PathEscape(sender)+"/sendMail", payload)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to send mail as %s", sender)
	}

	return nil
}
