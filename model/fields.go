package model

import (
	"fmt"
	"strconv"
	"time"
)

const birthdayLayout = time.RFC3339

// UserFields maps User onto a flat hash. Profile fields are prefixed with
// "profile_" and written only when set.
type UserFields struct{}

func (UserFields) ToFields(u User) (map[string]string, error) {
	m := map[string]string{
		"id":     u.ID,
		"name":   u.Name,
		"role":   strconv.Itoa(int(u.Role)),
		"status": strconv.Itoa(int(u.Status)),
	}
	if p := u.Profile; p != nil {
		m["profile"] = "1"
		putOpt(m, "profile_phone", p.Phone)
		putOpt(m, "profile_email", p.Email)
		putOpt(m, "profile_address", p.Address)
		putOpt(m, "profile_avatar", p.Avatar)
		if p.Birthday != nil {
			m["profile_birthday"] = p.Birthday.UTC().Format(birthdayLayout)
		}
	}
	return m, nil
}

func (UserFields) FromFields(m map[string]string) (User, error) {
	id, ok := m["id"]
	if !ok || id == "" {
		return User{}, fmt.Errorf("model: user fields: missing id")
	}
	role, err := strconv.Atoi(m["role"])
	if err != nil {
		return User{}, fmt.Errorf("model: user fields: role: %w", err)
	}
	status, err := strconv.Atoi(m["status"])
	if err != nil {
		return User{}, fmt.Errorf("model: user fields: status: %w", err)
	}
	u := User{ID: id, Name: m["name"], Role: Role(role), Status: Status(status)}
	if m["profile"] != "1" {
		return u, nil
	}
	p := &Profile{
		Phone:   getOpt(m, "profile_phone"),
		Email:   getOpt(m, "profile_email"),
		Address: getOpt(m, "profile_address"),
		Avatar:  getOpt(m, "profile_avatar"),
	}
	if s, ok := m["profile_birthday"]; ok {
		t, err := time.Parse(birthdayLayout, s)
		if err != nil {
			return User{}, fmt.Errorf("model: user fields: birthday: %w", err)
		}
		p.Birthday = &t
	}
	u.Profile = p
	return u, nil
}

func putOpt(m map[string]string, k string, v *string) {
	if v != nil {
		m[k] = *v
	}
}

func getOpt(m map[string]string, k string) *string {
	v, ok := m[k]
	if !ok {
		return nil
	}
	return &v
}
