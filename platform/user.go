package platform

import (
	"strconv"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// User is the application's view of the signed-in account.
type User struct {
	ID       string  `json:"id"`
	Email    string  `json:"email"`
	Username string  `json:"username,omitempty"`
	Name     string  `json:"name,omitempty"`
	Role     string  `json:"role,omitempty"`
	Avatar   *string `json:"avatar"`
}

// Profile is the canonical user profile.
type Profile struct {
	ID        string  `json:"id"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Userpic   string  `json:"userpic"`
	Balance   float64 `json:"balance"`
}

// rawProfile accepts every field spelling the platform is known to emit.
type rawProfile struct {
	ID         looseString  `json:"id"`
	UserID     looseString  `json:"user_id"`
	Email      string       `json:"email"`
	Username   string       `json:"username"`
	Name       string       `json:"name"`
	Role       string       `json:"role"`
	FirstName  string       `json:"firstName"`
	FirstName2 string       `json:"first_name"`
	LastName   string       `json:"lastName"`
	LastName2  string       `json:"last_name"`
	Userpic    string       `json:"userpic"`
	Avatar     string       `json:"avatar"`
	Balance    *looseNumber `json:"balance"`
}

// looseString takes a JSON string or number; numeric ids keep their literal
// text.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	v := jsontext.Value(b)
	switch v.Kind() {
	case '"':
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = looseString(str)
	case '0':
		*s = looseString(b)
	default:
		*s = ""
	}
	return nil
}

// looseNumber takes a JSON number or a string holding one. Anything else,
// including an unparsable string, reads as zero.
type looseNumber float64

func (n *looseNumber) UnmarshalJSON(b []byte) error {
	v := jsontext.Value(b)
	var text string
	switch v.Kind() {
	case '0':
		text = string(b)
	case '"':
		if err := json.Unmarshal(b, &text); err != nil {
			return err
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		f = 0
	}
	*n = looseNumber(f)
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func decodeRawProfile(raw jsontext.Value) (rawProfile, error) {
	var p rawProfile
	if len(raw) == 0 {
		return p, nil
	}
	err := json.Unmarshal(raw, &p)
	return p, err
}

// NormalizeProfile maps a platform profile record onto Profile. camelCase
// fields win over their snake_case twins; userpic wins over avatar; a missing
// balance is zero.
func NormalizeProfile(raw jsontext.Value) (Profile, error) {
	p, err := decodeRawProfile(raw)
	if err != nil {
		return Profile{}, err
	}
	out := Profile{
		ID:        firstNonEmpty(string(p.ID), string(p.UserID)),
		FirstName: firstNonEmpty(p.FirstName, p.FirstName2),
		LastName:  firstNonEmpty(p.LastName, p.LastName2),
		Userpic:   firstNonEmpty(p.Userpic, p.Avatar),
	}
	if p.Balance != nil {
		out.Balance = float64(*p.Balance)
	}
	return out, nil
}

// Identity is what an auth exchange (login, register, session check) tells us
// about the account.
type Identity struct {
	ID       string
	Username string
	Name     string
	Role     string
}

// IdentityFromAuth converts a login or register result.
func IdentityFromAuth(a *AuthResult) Identity {
	return Identity{
		ID:       a.NID,
		Username: a.Username,
		Name:     firstNonEmpty(a.Name, a.FirstName),
		Role:     a.Role,
	}
}

// MergeUser builds a User from an identity and an optional raw profile record.
// Profile fields take precedence; identity fields fill the gaps. On the
// platform the account id is the email, so email and username fall back to it.
func MergeUser(id Identity, profile jsontext.Value) (User, error) {
	p, err := decodeRawProfile(profile)
	if err != nil {
		return User{}, err
	}
	userID := firstNonEmpty(string(p.ID), string(p.UserID), p.Email, id.ID)
	u := User{
		ID:       userID,
		Username: firstNonEmpty(p.Username, id.Username, userID),
		Email:    firstNonEmpty(p.Email, id.Username, userID),
		Name:     firstNonEmpty(p.Name, p.FirstName, p.FirstName2, id.Name),
		Role:     firstNonEmpty(p.Role, id.Role, "user"),
	}
	if pic := firstNonEmpty(p.Userpic, p.Avatar); pic != "" {
		u.Avatar = &pic
	}
	return u, nil
}
