package jobs

type CreateJobPayload struct {
	LibraryID int  `json:"library_id" validate:"required"`
	Force     bool `json:"force"`
}

type ListJobsQuery struct {
	Limit     int      `query:"limit" json:"limit,omitempty" default:"10" validate:"min=1,max=100"`
	Offset    int      `query:"offset" json:"offset,omitempty" validate:"min=0"`
	Status    []string `query:"status" json:"status,omitempty" validate:"dive,oneof=pending in_progress completed failed"`
	Kind      *string  `query:"kind" json:"kind,omitempty" validate:"omitempty,oneof=audio video audiobook"`
	LibraryID *int     `query:"library_id" json:"library_id,omitempty"`
}
