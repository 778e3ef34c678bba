package provider

import "time"

// Profile is the provider's public card, shown to clients on the deal page.
type Profile struct {
	UserID      string
	FullName    string
	CompanyName *string
	Phone       *string
	Bio         *string
	AvatarURL   *string
	UpdatedAt   time.Time
}

// DisplayName prefers the company name when one is set.
func (p Profile) DisplayName() string {
	if p.CompanyName != nil && *p.CompanyName != "" {
		return *p.CompanyName
	}
	return p.FullName
}

// PublicCard is the subset of the profile a client may see.
type PublicCard struct {
	DisplayName string  `json:"display_name"`
	FullName    string  `json:"full_name"`
	CompanyName *string `json:"company_name,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
}

func (p Profile) Public() PublicCard {
	return PublicCard{
		DisplayName: p.DisplayName(),
		FullName:    p.FullName,
		CompanyName: p.CompanyName,
		Phone:       p.Phone,
		AvatarURL:   p.AvatarURL,
	}
}
