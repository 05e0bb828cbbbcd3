package models

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type User struct {
	ID           bson.ObjectID `bson:"_id,omitempty" json:"id"`
	Email        string        `bson:"email" json:"email"`
	Name         string        `bson:"name" json:"name"`
	PhoneNumber  string        `bson:"phoneNumber,omitempty" json:"phone_number,omitempty"`
	PasswordHash string        `bson:"passwordHash" json:"-"` // never expose
	CreatedAt    time.Time     `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time     `bson:"updatedAt" json:"updatedAt"`
}

// Session is the single live token pair of a user.
type Session struct {
	ID           bson.ObjectID `bson:"_id,omitempty"`
	UserID       bson.ObjectID `bson:"userId"`
	AccessToken  string        `bson:"accessToken"`
	RefreshToken string        `bson:"refreshToken"`
	CreatedAt    time.Time     `bson:"createdAt"`
}
