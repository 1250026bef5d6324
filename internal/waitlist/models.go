package waitlist

import "time"

type UserEmail struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"uniqueIndex;not null" json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (UserEmail) TableName() string {
	return "user_emails"
}

type UserLinkedin struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Linkedin string `gorm:"uniqueIndex;not null" json:"linkedin"`
	// Email links the profile to the survey answer from step one, when known.
	Email     string    `gorm:"index" json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (UserLinkedin) TableName() string {
	return "user_linkedin"
}
