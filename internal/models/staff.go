package models

// StaffLink is a pre-existing staff record matching an identity, created by a
// shop admin before the staff member ever signed in.
type StaffLink struct {
	ID     string  `json:"id"`
	ShopID *string `json:"shop_id"`
	UserID *string `json:"user_id"`
	Email  string  `json:"email"`
}
