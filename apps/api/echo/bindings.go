package echoapi

import (
	"fmt"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
)

const maxEntitiesPerRequest = 1000

// bindEntities binds a JSON array of entities and validates every one of them.
// Field errors are keyed by the entity position, eg. "[2].title".
func bindEntities[T any](ctx echo.Context, validate *validator.Validate, translator ut.Translator) ([]T, error) {
	var entities []T
	if err := ctx.Bind(&entities); err != nil {
		return nil, errors.Wrap(err, "binding entities")
	}

	switch n := len(entities); {
	case n == 0:
		return nil, core.NewValidationError(nil, core.FieldError{Field: "entities", Error: "at least one entity is required"})
	case n > maxEntitiesPerRequest:
		return nil, core.NewValidationError(nil, core.FieldError{
			Field: "entities",
			Error: fmt.Sprintf("at most %d entities can be sent at once", maxEntitiesPerRequest),
		})
	}

	var flds []core.FieldError
	for i, entity := range entities {
		err := validate.Struct(entity)
		if err == nil {
			continue
		}
		vErrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return nil, errors.Wrap(err, "validating entities")
		}
		for _, vErr := range vErrs {
			flds = append(flds, core.FieldError{
				Field: fmt.Sprintf("[%d].%s", i, vErr.Field()),
				Error: vErr.Translate(translator),
			})
		}
	}
	if len(flds) > 0 {
		return nil, core.NewValidationError(nil, flds...)
	}
	return entities, nil
}
