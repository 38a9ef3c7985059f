package utils

import (
	"net/mail"
	"strings"
)

func UniqueEmails(emails []string) []string {
	seen := make(map[string]struct{}, len(emails))
	unique := make([]string, 0, len(emails))

	for _, email := range emails {
		if _, exists := seen[email]; !exists {
			seen[email] = struct{}{}
			unique = append(unique, email)
		}
	}

	return unique
}

// BareAddress strips a display name ("Name <a@b>" -> "a@b").
func BareAddress(address string) string {
	address = strings.TrimSpace(address)
	if parsed, err := mail.ParseAddress(address); err == nil {
		return parsed.Address
	}
	if start, end := strings.LastIndex(address, "<"), strings.LastIndex(address, ">"); start >= 0 && end > start {
		return strings.TrimSpace(address[start+1 : end])
	}
	return address
}

// SplitLocalPart returns the local part of an address and its plus tag, if any.
// "images+12345@example.com" -> ("images", "12345").
func SplitLocalPart(address string) (local string, tag string) {
	address = BareAddress(address)
	at := strings.LastIndex(address, "@")
	if at <= 0 {
		return "", ""
	}
	local = strings.ToLower(address[:at])
	if plus := strings.Index(local, "+"); plus >= 0 {
		return local[:plus], local[plus+1:]
	}
	return local, ""
}

func ExtractDomainFromEmail(email string) string {
	email = BareAddress(email)
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(parts[1]))
}
