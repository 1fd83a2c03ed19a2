package fleet

import (
	"strings"
	"time"

	"github.com/charlie0129/battfleet/pkg/telemetry"
	"github.com/charlie0129/battfleet/pkg/utils/osver"
)

// RunStateSuccess is the run state of a script that exited cleanly.
const RunStateSuccess = "success"

// Row is one device of the fleet: its identity, the outcome of the last
// script run and the decoded battery record. Directory fields are filled
// in later by enrichment and may stay empty.
type Row struct {
	DeviceID          string    `json:"deviceId"`
	DeviceName        string    `json:"deviceName"`
	UserPrincipalName string    `json:"userPrincipalName"`
	SerialNumber      string    `json:"serialNumber,omitempty"`
	Model             string    `json:"model,omitempty"`
	OSVersion         string    `json:"osVersion,omitempty"`
	LastUpdate        time.Time `json:"lastUpdate"`

	RunState         string `json:"runState"`
	ErrorCode        int    `json:"errorCode"`
	ErrorDescription string `json:"errorDescription,omitempty"`
	ResultMessage    string `json:"resultMessage"`

	telemetry.Battery

	UserInfo
}

// UserInfo holds the directory attributes of a device's primary user.
type UserInfo struct {
	UserDisplayName string `json:"userDisplayName,omitempty"`
	Department      string `json:"department,omitempty"`
	JobTitle        string `json:"jobTitle,omitempty"`
	OfficeLocation  string `json:"officeLocation,omitempty"`
	City            string `json:"city,omitempty"`
	Country         string `json:"country,omitempty"`
	Manager         string `json:"manager,omitempty"`
}

// Merge copies every non-empty field of o into u. Empty fields of o never
// clear what is already known.
func (u *UserInfo) Merge(o UserInfo) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&u.UserDisplayName, o.UserDisplayName)
	set(&u.Department, o.Department)
	set(&u.JobTitle, o.JobTitle)
	set(&u.OfficeLocation, o.OfficeLocation)
	set(&u.City, o.City)
	set(&u.Country, o.Country)
	set(&u.Manager, o.Manager)
}

// IsZero reports whether no directory field is known.
func (u UserInfo) IsZero() bool {
	return u == UserInfo{}
}

// Enrich merges directory attributes into the row. Applying the same info
// twice leaves the row unchanged.
func (r *Row) Enrich(u UserInfo) {
	r.UserInfo.Merge(u)
}

// UserKey is the key enrichment uses to address the row. Rows without a
// user principal name have an empty key and are never enriched.
func (r Row) UserKey() string {
	return userKey(r.UserPrincipalName)
}

func userKey(upn string) string {
	return strings.ToLower(strings.TrimSpace(upn))
}

// Succeeded reports whether the script run on the device succeeded.
func (r Row) Succeeded() bool {
	return strings.EqualFold(r.RunState, RunStateSuccess)
}

// OS parses OSVersion.
func (r Row) OS() (osver.Version, bool) {
	v, err := osver.Parse(r.OSVersion)
	if err != nil {
		return osver.Version{}, false
	}
	return v, true
}
