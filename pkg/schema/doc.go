// Package schema validates form submissions against the fields a form
// declares.
//
// Field types are the names flows use in a form's fields list:
//
//	string (or text), bool, int, float (or number), json (any value),
//	object, list, and [T] for a list of T.
//
// A field with a default is optional; every other field is required:
//
//	s, err := schema.FromFields([]domain.FormField{
//	    {Name: "ok", Type: "bool"},
//	    {Name: "note", Default: "none"},
//	})
//	values, err := s.Apply(map[string]any{"ok": true})
//	// values == {"ok": true, "note": "none"}
//
// Keys the form does not declare are passed through unchecked.
package schema
