package indexer

import (
	"github.com/WessleyAI/specgraph/engine/spec"
)

func ref(name string) spec.Value { return spec.Ref("#/components/schemas/" + name) }

func typ(t string) spec.Value { return spec.Object(spec.F("type", spec.Scalar(t))) }

func jsonBody(v spec.Value) []spec.MediaType {
	return []spec.MediaType{{Type: "application/json", Schema: v}}
}

// payDoc is a single endpoint returning a single schema.
func payDoc() spec.Document {
	return spec.Document{
		FileName: "pay.yaml",
		Title:    "Payments",
		Version:  "1.0",
		Operations: []spec.Operation{{
			Path:        "/v1/payments",
			Method:      "GET",
			OperationID: "listPayments",
			Tags:        []string{"payments"},
			Parameters:  []spec.Parameter{{Name: "limit", In: spec.InQuery, Schema: typ("integer")}},
			Responses:   []spec.Response{{StatusCode: "200", Content: jsonBody(ref("Payment"))}},
		}},
		Schemas: []spec.SchemaDef{{
			Name: "Payment",
			Definition: spec.Object(
				spec.F("type", spec.Scalar("object")),
				spec.F("properties", spec.Object(spec.F("id", typ("string")))),
			),
		}},
	}
}

// shopDoc has request bodies, array responses, nested and external
// references, and shared tags.
func shopDoc() spec.Document {
	return spec.Document{
		FileName: "shop.yaml",
		Title:    "Shop",
		Version:  "2.1",
		Operations: []spec.Operation{
			{
				Path:       "/orders",
				Method:     "post",
				Tags:       []string{"orders", "admin"},
				Parameters: []spec.Parameter{{Name: "X-Trace", In: spec.InHeader}},
				RequestBody: &spec.RequestBody{
					Required: true,
					Content:  jsonBody(ref("Order")),
				},
				Responses: []spec.Response{
					{StatusCode: "201", Content: jsonBody(ref("Order"))},
					{StatusCode: "400", Description: "bad request"},
				},
			},
			{
				Path:   "/orders/{id}",
				Method: "GET",
				Tags:   []string{"orders"},
				Parameters: []spec.Parameter{
					{Name: "id", In: spec.InPath, Required: true, Schema: typ("string")},
					{Name: "expand", In: spec.InQuery, Schema: ref("Expand")},
				},
				Responses: []spec.Response{{
					StatusCode: "200",
					Content: jsonBody(spec.Object(
						spec.F("type", spec.Scalar("array")),
						spec.F("items", ref("Order")),
					)),
				}},
			},
		},
		Schemas: []spec.SchemaDef{
			{Name: "Order", Definition: spec.Object(
				spec.F("type", spec.Scalar("object")),
				spec.F("description", spec.Scalar("A placed order")),
				spec.F("required", spec.Array(spec.Scalar("id"))),
				spec.F("properties", spec.Object(
					spec.F("id", typ("string")),
					spec.F("customer", ref("Customer")),
					spec.F("lines", spec.Object(
						spec.F("type", spec.Scalar("array")),
						spec.F("items", ref("LineItem")),
					)),
				)),
			)},
			{Name: "Customer", Definition: spec.Object(
				spec.F("properties", spec.Object(spec.F("account", ref("BankAccount")))),
			)},
			{Name: "LineItem", Definition: spec.Object(
				spec.F("type", spec.Scalar("object")),
				spec.F("properties", spec.Object(
					spec.F("sku", typ("string")),
					spec.F("product", spec.Ref("external.yaml#/Product")),
				)),
			)},
			{Name: "BankAccount", Definition: typ("object")},
			{Name: "AccountHolder", Definition: spec.Object(
				spec.F("type", spec.Array(spec.Scalar("object"), spec.Scalar("null"))),
				spec.F("properties", spec.Object(spec.F("owner", ref("Customer")))),
			)},
			{Name: "Expand", Definition: typ("string")},
		},
	}
}

// badDoc mixes valid items with invalid ones.
func badDoc() spec.Document {
	return spec.Document{
		FileName: "bad.yaml",
		Operations: []spec.Operation{
			{Path: "/x", Method: "FETCH"},
			{Path: "/y", Method: "get", Parameters: []spec.Parameter{
				{Name: "q", In: "body"},
				{Name: "ok", In: spec.InQuery},
			}},
		},
		Schemas: []spec.SchemaDef{{Name: ""}, {Name: "Good"}},
	}
}

// refTree nests a reference to name two levels deep.
func refTree(name string) spec.Value {
	return spec.Object(
		spec.F("type", spec.Scalar("object")),
		spec.F("properties", spec.Object(
			spec.F("amounts", spec.Object(
				spec.F("type", spec.Scalar("array")),
				spec.F("items", spec.Object(
					spec.F("allOf", spec.Array(ref(name))),
				)),
			)),
		)),
	)
}
