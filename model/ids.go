package model

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// RequestID correlates an asynchronous vendor response with the request that
// produced it. Vendor callbacks carry the id back verbatim.
type RequestID string

func (r RequestID) IsZero() bool {
	return r == ""
}

func GenerateRequestID() (RequestID, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}

	return RequestID(base58.Encode(id[:])), nil
}

func MustGenerateRequestID() RequestID {
	id, err := GenerateRequestID()
	if err != nil {
		panic(fmt.Sprintf("failed to generate request id: %v", err))
	}

	return id
}

func GenerateOrderID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}

	return base58.Encode(id[:]), nil
}

func MustGenerateOrderID() string {
	id, err := GenerateOrderID()
	if err != nil {
		panic(fmt.Sprintf("failed to generate order id: %v", err))
	}

	return id
}
