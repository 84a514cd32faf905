package types

// User is an operator allowed to call authenticated endpoints.
type User struct {
	Username string `json:"username"`
	Hash     []byte `json:"hash"`
	Role     string `json:"role"`
}
