package model

// User is an account. Users own objects directly.
type User struct {
	Base
	Handle    *string `gorm:"uniqueIndex;size:64"`
	Name      string  `gorm:"not null;default:''"`
	IsPrivate bool    `gorm:"not null;default:false"`
	IsBot     bool    `gorm:"not null;default:false"`
	Bookmarks int64   `gorm:"not null;default:0"`
	Views     int64   `gorm:"not null;default:0"`
}

func (User) TableName() string {
	return "users"
}

// Organization owns objects on behalf of its administrators.
type Organization struct {
	Base
	Handle             *string `gorm:"uniqueIndex;size:64"`
	Name               string  `gorm:"not null;default:''"`
	IsPrivate          bool    `gorm:"not null;default:false"`
	IsOpenToNewMembers bool    `gorm:"not null;default:false"`
	Bookmarks          int64   `gorm:"not null;default:0"`
	Views              int64   `gorm:"not null;default:0"`
}

func (Organization) TableName() string {
	return "organizations"
}

// Member links a user to an organization.
type Member struct {
	Base
	OrganizationID string `gorm:"not null;size:36;uniqueIndex:idx_members_organization_user"`
	UserID         string `gorm:"not null;size:36;uniqueIndex:idx_members_organization_user;index"`
	IsAdmin        bool   `gorm:"not null;default:false"`
}

func (Member) TableName() string {
	return "members"
}
