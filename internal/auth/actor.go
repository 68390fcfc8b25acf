package auth

// ActorKind discriminates who performed an operation.
type ActorKind string

const (
	ActorStudent ActorKind = "student"
	ActorStaff   ActorKind = "staff"
	ActorAdmin   ActorKind = "admin"
)

// Actor identifies the person behind a review or admin mutation.
type Actor struct {
	Kind ActorKind `json:"kind"`
	ID   int64     `json:"id"`
}
