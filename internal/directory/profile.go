// Package directory provides the user directory behind the login form and the
// token endpoint: demo accounts with contact profiles, held in memory or in a
// gorm-backed table.
package directory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tyemirov/oidcidp/internal/authkit"
)

// ContactProfile is the profile document carried in the userprofiles claim.
// Field names are the relying party's wire names.
type ContactProfile struct {
	ContactID            string         `json:"ContactId"`
	ContactFullName      string         `json:"ContactFullName"`
	FirstNames           string         `json:"FirstNames"`
	Surname              string         `json:"Surname"`
	EmailAddress         string         `json:"EmailAddress"`
	MobileNumber         string         `json:"MobileNumber"`
	ContactPostalAddress PostalAddress  `json:"ContactPostalAddress"`
	Organisations        []Organisation `json:"Organisations"`
}

type PostalAddress struct {
	AddressLineOne string `json:"AddressLineOne"`
	AddressLineTwo string `json:"AddressLineTwo"`
	Suburb         string `json:"Suburb"`
	Postcode       string `json:"Poscode"`
	FullAddress    string `json:"FullAddress"`
}

type Organisation struct {
	OrganisationContactID    string `json:"OrganisationContactId"`
	OrganisationFullName     string `json:"OrganisationFullName"`
	TradingName              string `json:"TradingName"`
	ABN                      string `json:"ABN"`
	OrganisationAlternateKey string `json:"OrganisationAlternateKey"`
}

// Entry is one directory account before it is projected onto authkit.User.
type Entry struct {
	ID           string
	Email        string
	PasswordHash string
	Profile      ContactProfile
}

// User projects the entry onto the protocol core's view. ContactId is the subject.
func (entry Entry) User() (authkit.User, error) {
	encoded, err := json.Marshal(entry.Profile)
	if err != nil {
		return authkit.User{}, fmt.Errorf("directory.profile.encode: %w", err)
	}
	return authkit.User{
		ID:           entry.ID,
		Email:        entry.Email,
		PasswordHash: entry.PasswordHash,
		SubjectID:    entry.Profile.ContactID,
		Profile:      encoded,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
