// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ndef

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidWriteOptions wraps every write option validation failure.
var ErrInvalidWriteOptions = errors.New("ndef: invalid write options")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("langtag", validateLangTag); err != nil {
		panic(fmt.Sprintf("ndef: register langtag validation: %v", err))
	}
	return v
}

// validateLangTag accepts BCP 47 style tags: ASCII letters, digits and
// hyphens, short enough for the 6-bit length field of the status byte.
func validateLangTag(fl validator.FieldLevel) bool {
	val := fl.Field().String()
	if len(val) > maxLanguageLength {
		return false
	}
	for i := range len(val) {
		c := val[i]
		isAlnum := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !isAlnum && c != '-' {
			return false
		}
	}
	return true
}

// ValidateWriteOptions checks opts field by field and verifies that the
// encoded message fits in a Type 2 tag TLV.
func ValidateWriteOptions(opts WriteOptions) error {
	if err := validate.Struct(opts); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q", ErrInvalidWriteOptions, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %w", ErrInvalidWriteOptions, err)
	}

	msg := BuildMessage(opts)
	if msg.Len() == 0 {
		return nil
	}
	data, err := msg.Marshal()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidWriteOptions, err)
	}
	if len(data) > MaxTLVLength {
		return fmt.Errorf("%w: encoded message is %d bytes, limit %d",
			ErrInvalidWriteOptions, len(data), MaxTLVLength)
	}
	return nil
}
