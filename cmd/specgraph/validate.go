package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/WessleyAI/specgraph/engine/graph"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("nodetype", func(fl validator.FieldLevel) bool {
		return graph.NodeType(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("reltype", func(fl validator.FieldLevel) bool {
		return graph.RelType(fl.Field().String()).Valid()
	})
	return v
}

// decodeBody reads a JSON body into dst and validates it. The returned
// message is safe to send to the client.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) (string, bool) {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		return "invalid request body", false
	}
	if err := validate.Struct(dst); err != nil {
		return describeValidation(err), false
	}
	return "", true
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), strings.SplitN(fe.Namespace(), ".", 2)[0]+".")
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "nodetype":
			msgs = append(msgs, fmt.Sprintf("%s: unknown node type %q", field, fe.Value()))
		case "reltype":
			msgs = append(msgs, fmt.Sprintf("%s: unknown relationship type %q", field, fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
