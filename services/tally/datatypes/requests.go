// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the wire types shared by the tally service's HTTP
// and WebSocket surfaces: request bodies with their validation rules, the
// counter JSON shape, and the push event envelope.
package datatypes

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// tallyValidate is the validator instance for request datatypes.
// Initialized in init() with custom validators.
var tallyValidate *validator.Validate

// counterNameRe matches valid counter names: alphanumeric plus space,
// 1 to 32 characters.
var counterNameRe = regexp.MustCompile(`^[a-zA-Z0-9 ]{1,32}$`)

// displayNameRe matches valid display names: word characters, 3 to 20 long.
var displayNameRe = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)

func init() {
	tallyValidate = validator.New()

	_ = tallyValidate.RegisterValidation("countername", validateCounterName)
	_ = tallyValidate.RegisterValidation("displayname", validateDisplayName)
}

func validateCounterName(fl validator.FieldLevel) bool {
	return counterNameRe.MatchString(fl.Field().String())
}

func validateDisplayName(fl validator.FieldLevel) bool {
	return displayNameRe.MatchString(fl.Field().String())
}

// =============================================================================
// Auth Request Types
// =============================================================================

// RegisterRequest is the body of POST /auth/register.
//
// # Description
//
// Escalates the caller's current (anonymous) identity in place: binds the
// chosen display name and password to the identity the session already
// resolves to, so counters created before registering stay owned.
//
// # Validation
//
//   - DisplayName: required, ^[A-Za-z0-9_]{3,20}$
//   - Password: required, at least 6 characters
type RegisterRequest struct {
	DisplayName string `json:"displayName" validate:"required,displayname"`
	Password    string `json:"password" validate:"required,min=6"`
}

// Validate validates the RegisterRequest fields.
func (r *RegisterRequest) Validate() error {
	return tallyValidate.Struct(r)
}

// LoginRequest is the body of POST /auth/login.
//
// DisplayName is not pattern-checked here: login failures for malformed
// names and unknown names must be indistinguishable to the caller.
type LoginRequest struct {
	DisplayName string `json:"displayName" validate:"required"`
	Password    string `json:"password" validate:"required"`
}

// Validate validates the LoginRequest fields.
func (r *LoginRequest) Validate() error {
	return tallyValidate.Struct(r)
}

// =============================================================================
// Counter Request Types
// =============================================================================

// CreateCounterRequest is the body of POST /counters.
//
// # Validation
//
//   - Name: required, alphanumeric plus space, 1-32 characters
//   - Visibility: "public" or "private"; empty defaults to "public"
type CreateCounterRequest struct {
	Name       string `json:"name" validate:"required,countername"`
	Visibility string `json:"visibility" validate:"omitempty,oneof=public private"`
}

// Validate validates the CreateCounterRequest fields.
func (r *CreateCounterRequest) Validate() error {
	return tallyValidate.Struct(r)
}
