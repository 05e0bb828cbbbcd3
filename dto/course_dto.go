package dto

import "github.com/princinho/racebackend/courses"

type CheckpointDTO struct {
	Number *int     `json:"number" binding:"required,gte=0"`
	Lat    *float64 `json:"lat" binding:"required"`
	Lng    *float64 `json:"lng" binding:"required"`
}

type CreateCourseDTO struct {
	Name        string          `json:"name" binding:"required"`
	Checkpoints []CheckpointDTO `json:"checkpoints" binding:"required,dive"`
}

type UpdateCourseDTO struct {
	Name        *string         `json:"name,omitempty"`
	Checkpoints []CheckpointDTO `json:"checkpoints,omitempty" binding:"omitempty,dive"`
}

func toCheckpointInputs(in []CheckpointDTO) []courses.CheckpointInput {
	if in == nil {
		return nil
	}
	out := make([]courses.CheckpointInput, 0, len(in))
	for _, cp := range in {
		out = append(out, courses.CheckpointInput{Number: *cp.Number, Lat: *cp.Lat, Lng: *cp.Lng})
	}
	return out
}

func (d CreateCourseDTO) Input() courses.CourseInput {
	return courses.CourseInput{Name: d.Name, Checkpoints: toCheckpointInputs(d.Checkpoints)}
}

func (d UpdateCourseDTO) Input() courses.UpdateInput {
	return courses.UpdateInput{Name: d.Name, Checkpoints: toCheckpointInputs(d.Checkpoints)}
}
