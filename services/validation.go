package services

import (
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/microvolunteer/platform/models"
	"github.com/microvolunteer/platform/utils"
)

const (
	minPasswordLen    = 8
	maxPasswordLen    = 72 // bcrypt ignores anything past 72 bytes
	maxNameLen        = 100
	minTitleLen       = 3
	maxTitleLen       = 120
	maxDescriptionLen = 2000
	maxAboutLen       = 500
	maxAddressLen     = 300
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string, errs ValidationErrors) {
	if email == "" {
		errs.Add("email", "Email is required")
	} else if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		errs.Add("email", "Invalid email address")
	}
}

func validateName(name string, errs ValidationErrors) {
	if name == "" {
		errs.Add("name", "Name is required")
	} else if utf8.RuneCountInString(name) > maxNameLen {
		errs.Add("name", "Name is too long")
	}
}

func validatePassword(password string, errs ValidationErrors) {
	switch {
	case password == "":
		errs.Add("password", "Password is required")
	case len(password) < minPasswordLen:
		errs.Add("password", "Password must be at least 8 characters")
	case len(password) > maxPasswordLen:
		errs.Add("password", "Password must be at most 72 bytes")
	}
}

func validateGender(gender string, errs ValidationErrors) {
	switch gender {
	case "", models.GenderMale, models.GenderFemale, models.GenderRatherNot:
	default:
		errs.Add("gender", "Gender must be one of: male, female, rather not say")
	}
}

func validateAbout(about string, errs ValidationErrors) {
	if utf8.RuneCountInString(about) > maxAboutLen {
		errs.Add("about", "About must be at most 500 characters")
	}
}

func validateTitle(title string, errs ValidationErrors) {
	n := utf8.RuneCountInString(title)
	switch {
	case n == 0:
		errs.Add("title", "Title is required")
	case n < minTitleLen:
		errs.Add("title", "Title must be at least 3 characters")
	case n > maxTitleLen:
		errs.Add("title", "Title must be at most 120 characters")
	}
}

func validateDescription(description string, errs ValidationErrors) {
	n := utf8.RuneCountInString(description)
	if n == 0 {
		errs.Add("description", "Description is required")
	} else if n > maxDescriptionLen {
		errs.Add("description", "Description must be at most 2000 characters")
	}
}

func cleanLocation(l models.Location) models.Location {
	l.Address = utils.PlainText(l.Address)
	return l
}

func validateLocation(l models.Location, errs ValidationErrors) {
	n := utf8.RuneCountInString(l.Address)
	if n == 0 {
		errs.Add("location.address", "Address is required")
	} else if n > maxAddressLen {
		errs.Add("location.address", "Address must be at most 300 characters")
	}

	if (l.Lat == nil) != (l.Lng == nil) {
		errs.Add("location", "Latitude and longitude must be given together")
		return
	}
	if l.Lat != nil && !(*l.Lat >= -90 && *l.Lat <= 90) {
		errs.Add("location.lat", "Latitude must be between -90 and 90")
	}
	if l.Lng != nil && !(*l.Lng >= -180 && *l.Lng <= 180) {
		errs.Add("location.lng", "Longitude must be between -180 and 180")
	}
}
