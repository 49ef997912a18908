package graph

import "errors"

var (
	ErrInvalidActor       = errors.New("invalid actor")
	ErrActorAlreadyAdded  = errors.New("actor already added")
	ErrActorNotFound      = errors.New("actor not found")
	ErrNilConnection      = errors.New("nil connection")
	ErrConnectionExists   = errors.New("connection already registered")
	ErrUnknownConnection  = errors.New("unknown connection")
	ErrUnregisteredParent = errors.New("dependent actor parent is not registered")
)
