package domain

// UserProfile is the persisted record at users/{uid}. Created once on first
// sign-in and never overwritten afterwards.
type UserProfile struct {
	UID         UserID
	Email       string
	DisplayName string
	PhotoURL    string
	Desc        string
}
