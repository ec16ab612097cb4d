package session

import "time"

// Profile is the signed-in member as returned by GET /api/members/me.
type Profile struct {
	ID              int64     `json:"id"`
	Email           string    `json:"email,omitempty"`
	Nickname        string    `json:"nickname"`
	ProfileImageURL string    `json:"profileImageUrl,omitempty"`
	Provider        Provider  `json:"provider,omitempty"`
	CreatedAt       time.Time `json:"createdAt,omitempty"`
}

// ProfileUpdate is a partial update; nil fields are left unchanged.
type ProfileUpdate struct {
	Nickname        *string `json:"nickname,omitempty"`
	ProfileImageURL *string `json:"profileImageUrl,omitempty"`
}

func (p *Profile) clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
