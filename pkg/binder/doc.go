// Package binder fills request structs from path parameters, the query
// string and JSON bodies.
//
// Fields are matched by struct tag (`path:"id"`, `query:"page"`) or, when
// the tag is absent, by the lower-cased field name. A `-` tag skips the
// field. Besides the basic kinds, any type implementing
// encoding.TextUnmarshaler (uuid.UUID, for one) is supported.
//
//	type completeRequest struct {
//		TicketID uuid.UUID `path:"ticketId"`
//		OK       bool      `json:"ok"`
//	}
//
//	var req completeRequest
//	for _, bind := range []func(*http.Request, any) error{binder.Path(chi.URLParam), binder.JSON()} {
//		if err := bind(r, &req); err != nil { ... }
//	}
package binder
