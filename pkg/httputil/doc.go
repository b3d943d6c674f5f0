// Package httputil holds the JSON helpers and middleware shared by the ops
// and admin HTTP surface: request ids, structured request logging, panic
// recovery and body limits.
package httputil
