// Package httpapi exposes the scheduler over HTTP.
//
// Callers are identified by the X-Profile-Id and X-Display-Name headers set
// by the gateway in front of toastd. Every JSON response uses the envelope
//
//	{"success":true,"data":...}
//	{"success":false,"error":{"code":"VALIDATION_ERROR","message":"..."}}
package httpapi
