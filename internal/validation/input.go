package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Константы валидации
const (
	MinDisplayNameLength = 2
	MaxDisplayNameLength = 100

	MinProjectTitleLength       = 3
	MaxProjectTitleLength       = 200
	MinProjectDescriptionLength = 10
	MaxProjectDescriptionLength = 5000

	MinQuoteMessageLength = 0
	MaxQuoteMessageLength = 2000

	MinQuotePrice = 0.01
	MaxQuotePrice = 100000.0

	MinQuantity = 1
	MaxQuantity = 10000

	MaxMaterialLength   = 100
	MaxBankNameLength   = 100
	MaxHolderNameLength = 150
)

// siretRegex — 14 цифр французского реестра предприятий.
var siretRegex = regexp.MustCompile(`^\d{14}$`)

// ibanRegex — грубая структурная проверка IBAN.
var ibanRegex = regexp.MustCompile(`^[A-Z]{2}\d{2}[A-Z0-9]{10,30}$`)

// ValidateLength проверяет длину строки.
func ValidateLength(fieldName, value string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if min > 0 && length < min {
		return fmt.Errorf("%s должен быть не менее %d символов", fieldName, min)
	}
	if max > 0 && length > max {
		return fmt.Errorf("%s должен быть не более %d символов", fieldName, max)
	}
	return nil
}

// ValidateEmail проверяет формат email.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email обязателен")
	}

	email = strings.ToLower(strings.TrimSpace(email))

	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return fmt.Errorf("некорректный формат email")
	}

	localPart := parts[0]
	domainPart := parts[1]

	if len(localPart) == 0 || len(localPart) > 64 {
		return fmt.Errorf("локальная часть email должна быть от 1 до 64 символов")
	}

	localRegex := regexp.MustCompile(`^[a-z0-9._+-]+$`)
	if !localRegex.MatchString(localPart) {
		return fmt.Errorf("локальная часть email содержит недопустимые символы")
	}

	domainRegex := regexp.MustCompile(`^[a-z0-9.-]+\.[a-z]{2,}$`)
	if !domainRegex.MatchString(domainPart) {
		return fmt.Errorf("доменная часть email имеет некорректный формат")
	}

	return nil
}

// ValidateNonEmpty проверяет, что строка не пустая.
func ValidateNonEmpty(fieldName, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s не может быть пустым", fieldName)
	}
	return nil
}

// ValidateProjectTitle проверяет заголовок проекта.
func ValidateProjectTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("заголовок проекта обязателен")
	}
	return ValidateLength("заголовок проекта", strings.TrimSpace(title), MinProjectTitleLength, MaxProjectTitleLength)
}

// ValidateProjectDescription проверяет описание проекта.
func ValidateProjectDescription(description string) error {
	if strings.TrimSpace(description) == "" {
		return fmt.Errorf("описание проекта обязательно")
	}
	return ValidateLength("описание проекта", strings.TrimSpace(description), MinProjectDescriptionLength, MaxProjectDescriptionLength)
}

// ValidateQuotePrice проверяет цену в предложении.
func ValidateQuotePrice(price float64) error {
	if price < MinQuotePrice {
		return fmt.Errorf("цена должна быть положительной")
	}
	if price > MaxQuotePrice {
		return fmt.Errorf("цена превышает допустимый максимум %.0f", MaxQuotePrice)
	}
	return nil
}

// ValidateQuantity проверяет тираж печати.
func ValidateQuantity(quantity int) error {
	if quantity < MinQuantity {
		return fmt.Errorf("количество должно быть не менее %d", MinQuantity)
	}
	if quantity > MaxQuantity {
		return fmt.Errorf("количество должно быть не более %d", MaxQuantity)
	}
	return nil
}

// ValidateSIRET проверяет номер SIRET: ровно 14 цифр.
func ValidateSIRET(siret string) error {
	if !siretRegex.MatchString(strings.TrimSpace(siret)) {
		return fmt.Errorf("номер SIRET должен состоять из 14 цифр")
	}
	return nil
}

// ValidateIBAN проверяет структуру IBAN.
func ValidateIBAN(iban string) error {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(iban), " ", ""))
	if !ibanRegex.MatchString(normalized) {
		return fmt.Errorf("некорректный формат IBAN")
	}
	return nil
}

// NormalizeIBAN приводит IBAN к каноническому виду без пробелов.
func NormalizeIBAN(iban string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(iban), " ", ""))
}
