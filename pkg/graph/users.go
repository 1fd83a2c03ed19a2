package graph

import (
	"context"
	"net/url"
)

const userFields = "id,displayName,userPrincipalName,mail,department,jobTitle,officeLocation,city,country,employeeId"

// User is a directory user.
type User struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
	Mail              string `json:"mail"`
	Department        string `json:"department"`
	JobTitle          string `json:"jobTitle"`
	OfficeLocation    string `json:"officeLocation"`
	City              string `json:"city"`
	Country           string `json:"country"`
	EmployeeID        string `json:"employeeId"`
}

// GetUser looks a user up by object id or user principal name.
func (c *Client) GetUser(ctx context.Context, idOrUPN string) (*User, error) {
	q := url.Values{}
	q.Set("$select", userFields)

	var u User
	if err := c.getJSON(ctx, "/users/"+url.PathEscape(idOrUPN)+"?"+q.Encode(), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetManager returns the manager of a user.
func (c *Client) GetManager(ctx context.Context, idOrUPN string) (*User, error) {
	q := url.Values{}
	q.Set("$select", "id,displayName,userPrincipalName,mail")

	var u User
	if err := c.getJSON(ctx, "/users/"+url.PathEscape(idOrUPN)+"/manager?"+q.Encode(), &u); err != nil {
		return nil, err
	}
	return &u, nil
}
