package models

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type Course struct {
	ID            bson.ObjectID   `bson:"_id,omitempty" json:"id"`
	Name          string          `bson:"name" json:"name"`
	AdminID       bson.ObjectID   `bson:"adminId" json:"adminId"`
	CheckpointIDs []bson.ObjectID `bson:"checkpointIds" json:"checkpointIds"`
	CreatedAt     time.Time       `bson:"createdAt" json:"createdAt"`
	UpdatedAt     time.Time       `bson:"updatedAt" json:"updatedAt"`
}

// Checkpoint number 0 is the start, the highest number is the finish.
type Checkpoint struct {
	ID       bson.ObjectID `bson:"_id,omitempty" json:"id"`
	CourseID bson.ObjectID `bson:"courseId" json:"courseId"`
	Number   int           `bson:"number" json:"number"`
	Lat      float64       `bson:"lat" json:"lat"`
	Lng      float64       `bson:"lng" json:"lng"`
	QRCode   string        `bson:"qrCode" json:"qr_code,omitempty"`
}

// Visit is the best proven passage of a user at a checkpoint.
type Visit struct {
	ID           bson.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID       bson.ObjectID `bson:"userId" json:"userId"`
	CourseID     bson.ObjectID `bson:"courseId" json:"courseId"`
	CheckpointID bson.ObjectID `bson:"checkpointId" json:"checkpointId"`
	CapturedAt   time.Time     `bson:"capturedAt" json:"capturedAt"`
	PhotoURL     string        `bson:"photoUrl,omitempty" json:"photoUrl,omitempty"`
	PhotoKey     string        `bson:"photoKey,omitempty" json:"-"`
	CreatedAt    time.Time     `bson:"createdAt" json:"createdAt"`
}
