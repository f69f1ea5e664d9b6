/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package store

import "errors"

var (
	// ErrNotFound is returned when no record exists for an identity.
	ErrNotFound = errors.New("node record not found")
	// ErrIdentityRequired is returned for an upsert without identity.
	ErrIdentityRequired = errors.New("node identity is required")
	// ErrUnknownCodec is returned by CodecByName.
	ErrUnknownCodec = errors.New("unknown snapshot codec")

	ErrFailedToQuery  = errors.New("failed to query")
	ErrFailedToScan   = errors.New("failed to scan")
	ErrFailedToUpsert = errors.New("failed to upsert")
	ErrFailedToInit   = errors.New("failed to initialize schema")
	ErrFailedToOpen   = errors.New("failed to open store")
)
