package dto

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lac-hong-legacy/guard_api/model"
)

var validate *validator.Validate

var (
	usernameRegex    = regexp.MustCompile(`^@?[\p{L}\p{N}._\-]{1,255}$`)
	extensionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-@.]{3,64}$`)
)

func init() {
	validate = validator.New()
	validate.RegisterValidation("platform", validatePlatform)
	validate.RegisterValidation("category", validateCategory)
	validate.RegisterValidation("browser_uuid", validateBrowserUUID)
	validate.RegisterValidation("target_username", validateTargetUsername)
	validate.RegisterValidation("extension_id", validateExtensionID)
	validate.RegisterValidation("not_blank", validateNotBlank)
}

func GetValidator() *validator.Validate {
	return validate
}

func validatePlatform(fl validator.FieldLevel) bool {
	value := strings.ToLower(strings.TrimSpace(fl.Field().String()))
	for _, p := range model.Platforms {
		if p == value {
			return true
		}
	}
	return false
}

func validateCategory(fl validator.FieldLevel) bool {
	switch model.Category(fl.Field().String()) {
	case model.CategoryHarassment, model.CategoryHateSpeech, model.CategoryThreats,
		model.CategoryCyberbullying, model.CategorySexual, model.CategorySelfHarm,
		model.CategorySpam, model.CategoryOther:
		return true
	}
	return false
}

func validateBrowserUUID(fl validator.FieldLevel) bool {
	_, err := uuid.Parse(fl.Field().String())
	return err == nil
}

func validateTargetUsername(fl validator.FieldLevel) bool {
	return usernameRegex.MatchString(strings.TrimSpace(fl.Field().String()))
}

func validateExtensionID(fl validator.FieldLevel) bool {
	return extensionIDRegex.MatchString(fl.Field().String())
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

func FormatValidationErrors(err error) []ValidationError {
	var out []ValidationError

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, fieldError := range validationErrors {
			var message string

			switch fieldError.Tag() {
			case "required", "not_blank":
				message = fieldError.Field() + " is required"
			case "min":
				message = fieldError.Field() + " must be at least " + fieldError.Param()
			case "max":
				message = fieldError.Field() + " must be at most " + fieldError.Param()
			case "oneof":
				message = fieldError.Field() + " must be one of: " + fieldError.Param()
			case "platform":
				message = "Unsupported platform"
			case "category":
				message = "Unknown report category"
			case "browser_uuid", "uuid":
				message = fieldError.Field() + " must be a valid UUID"
			case "target_username":
				message = "Invalid target username"
			case "extension_id":
				message = "Invalid extension id"
			case "dive":
				message = fieldError.Field() + " contains invalid items"
			default:
				message = fieldError.Field() + " is invalid"
			}

			out = append(out, ValidationError{
				Field:   fieldError.Field(),
				Message: message,
			})
		}
	}

	return out
}

type Validator interface {
	Validate() error
}

func CreateValidationErrorResponse(err error) ValidationErrorResponse {
	return ValidationErrorResponse{
		Code:    400,
		Message: "Validation failed",
		Errors:  FormatValidationErrors(err),
	}
}
