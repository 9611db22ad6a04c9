package model

// GenerationRequest is the contract with the external content generator.
// The core decides when to ask and what constraints to pass; content
// internals are never interpreted here.
type GenerationRequest struct {
	UserID           string     `json:"user_id"`
	Topic            string     `json:"topic"`
	Difficulty       Difficulty `json:"difficulty"`
	LearningStyle    string     `json:"learning_style"`
	PrerequisiteGaps []string   `json:"prerequisite_gaps,omitempty"`
}

// DeliveryInstruction is handed to the external delivery collaborator
// after an InterventionRecord has been durably appended.
type DeliveryInstruction struct {
	InterventionID string             `json:"intervention_id"`
	UserID         string             `json:"user_id"`
	Artifact       ArtifactDescriptor `json:"artifact"`
	ChannelHint    string             `json:"channel_hint"`
}
