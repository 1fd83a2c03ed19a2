package graph

import (
	"context"
	"net/url"
	"time"

	pkgerrors "github.com/pkg/errors"
)

const scriptsPath = "/deviceManagement/deviceCustomAttributeShellScripts"

// AttributeScript is a custom attribute shell script definition.
type AttributeScript struct {
	ID                   string    `json:"id"`
	DisplayName          string    `json:"displayName"`
	Description          string    `json:"description"`
	CustomAttributeName  string    `json:"customAttributeName"`
	CustomAttributeType  string    `json:"customAttributeType"`
	CreatedDateTime      time.Time `json:"createdDateTime"`
	LastModifiedDateTime time.Time `json:"lastModifiedDateTime"`
}

// ManagedDevice is the device identity joined into a run state.
type ManagedDevice struct {
	ID                string `json:"id"`
	DeviceName        string `json:"deviceName"`
	UserPrincipalName string `json:"userPrincipalName"`
	SerialNumber      string `json:"serialNumber"`
	Model             string `json:"model"`
	OSVersion         string `json:"osVersion"`
}

// RunState is one device's latest execution result of a script.
type RunState struct {
	ID                      string         `json:"id"`
	RunState                string         `json:"runState"`
	ResultMessage           string         `json:"resultMessage"`
	LastStateUpdateDateTime *time.Time     `json:"lastStateUpdateDateTime"`
	ErrorCode               int            `json:"errorCode"`
	ErrorDescription        string         `json:"errorDescription"`
	ManagedDevice           *ManagedDevice `json:"managedDevice"`
}

// ListAttributeScripts returns every custom attribute script definition.
func (c *Client) ListAttributeScripts(ctx context.Context) ([]AttributeScript, error) {
	q := url.Values{}
	q.Set("$select", "id,displayName,description,customAttributeName,customAttributeType,createdDateTime,lastModifiedDateTime")

	var scripts []AttributeScript
	err := listPages(ctx, c, scriptsPath+"?"+q.Encode(), func(p []AttributeScript) error {
		scripts = append(scripts, p...)
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to list attribute scripts")
	}

	return scripts, nil
}

// ListRunStates pages through the run states of one script, each joined with
// its managed device, and calls fn once per page in arrival order.
func (c *Client) ListRunStates(ctx context.Context, scriptID string, fn func([]RunState) error) error {
	q := url.Values{}
	q.Set("$expand", "managedDevice($select=id,deviceName,userPrincipalName,serialNumber,model,osVersion)")

	path := scriptsPath + "/" + url.PathEscape(scriptID) + "/deviceRunStates?" + q.Encode()
	if err := listPages(ctx, c, path, fn); err != nil {
		return pkgerrors.Wrapf(err, "failed to list run states of script %s", scriptID)
	}

	return nil
}
