/*
Package auth authenticates callers of Warden's mutating API routes.

Callers present a named API key in "Authorization: Bearer <key>" or in the
X-API-Key header. The matching key's name becomes the caller's Identity,
which handlers read with FromContext, for example to record who resolved
an approval request. When the connection carries a verified client
certificate, the certificate identity is accepted in place of a key.

Keys are compared in constant time and can be replaced at runtime with
Validator.Replace, so rotated secrets take effect without a restart. Key
values are never logged.
*/
package auth
