package program

// AccessPolicy is the access control attached to every record created by
// ingestion. It is plain data; enforcement belongs to the hosting platform.
type AccessPolicy struct {
	PublicRead  bool     `json:"publicRead"`
	PublicWrite bool     `json:"publicWrite"`
	WriteRoles  []string `json:"writeRoles"`
}

// AdminRole returns the administrator role principal of a conference.
func AdminRole(conferenceID string) string { return conferenceID + "-admin" }

// ManagerRole returns the manager role principal of a conference.
func ManagerRole(conferenceID string) string { return conferenceID + "-manager" }

// DefaultPolicy grants public read and restricts writes to the conference's
// admin and manager roles.
func DefaultPolicy(conferenceID string) AccessPolicy {
	return AccessPolicy{
		PublicRead:  true,
		PublicWrite: false,
		WriteRoles:  []string{ManagerRole(conferenceID), AdminRole(conferenceID)},
	}
}
