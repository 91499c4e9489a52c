// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"
	"unicode"

	"github.com/mmeshcher/bookstore-coins/internal/model"
)

const (
	minPhoneDigits = 9
	maxPhoneDigits = 15
	minPromoLength = 3
	maxPromoLength = 32
)

// IsValidPhone проверяет номер телефона: необязательный ведущий '+', затем цифры,
// пробелы, дефисы и точки; цифр от 9 до 15.
func IsValidPhone(phone string) bool {
	phone = strings.TrimPrefix(strings.TrimSpace(phone), "+")
	if phone == "" {
		return false
	}

	digits := 0
	for _, ch := range phone {
		switch {
		case unicode.IsDigit(ch):
			digits++
		case ch == ' ' || ch == '-' || ch == '.':
		default:
			return false
		}
	}

	return digits >= minPhoneDigits && digits <= maxPhoneDigits
}

// NormalizePromoCode приводит промокод к верхнему регистру и проверяет допустимые символы.
func NormalizePromoCode(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) < minPromoLength || len(code) > maxPromoLength {
		return "", false
	}

	for _, ch := range code {
		if !(ch >= 'A' && ch <= 'Z') && !(ch >= '0' && ch <= '9') && ch != '_' && ch != '-' {
			return "", false
		}
	}

	return code, true
}

// NormalizeShipping обрезает пробелы во всех полях адреса.
func NormalizeShipping(s model.ShippingInfo) model.ShippingInfo {
	return model.ShippingInfo{
		FullName: strings.TrimSpace(s.FullName),
		Phone:    strings.TrimSpace(s.Phone),
		Address:  strings.TrimSpace(s.Address),
		City:     strings.TrimSpace(s.City),
		Note:     strings.TrimSpace(s.Note),
	}
}

// IsValidShipping сообщает, заполнены ли обязательные поля адреса и корректен ли телефон.
func IsValidShipping(s model.ShippingInfo) bool {
	return s.Complete() && IsValidPhone(s.Phone)
}

// IsValidOrderNumber проверяет формат номера заказа: BK, шесть цифр даты и шесть цифр.
func IsValidOrderNumber(number string) bool {
	rest, ok := strings.CutPrefix(number, "BK")
	if !ok || len(rest) != 12 {
		return false
	}

	for _, ch := range rest {
		if !unicode.IsDigit(ch) {
			return false
		}
	}

	return true
}
