package types

// BaseFilter is the minimal surface stores need to paginate list queries
type BaseFilter interface {
	GetLimit() int
	GetOffset() int
	IsUnlimited() bool
	Validate() error
}
