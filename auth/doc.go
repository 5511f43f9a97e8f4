// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package auth provides credential, participant key and claims utilities.

# Admin Keys

Admin keys use HMAC-SHA256 to create deterministic, verifiable keys:

	adminKey := auth.GenerateAdminKey(pollID, salt)
	err := auth.ValidateAdminKey(pollID, adminKey, salt)

The key is returned once when a poll is created and lets its author edit the
poll without an account.

# Voter Tokens

Voter tokens are random 24-byte (192-bit) bearer secrets:

	token, err := auth.GenerateVoterToken()

Only the SHA-256 of a token is stored. Clients send it in the
X-Voter-Token header.

# Participant Keys

Every ballot is recorded against exactly one participant key:

	auth.VoterKey(voterID)           // "voter:<id>"
	auth.OriginKey(clientIP, salt)   // "origin:<hmac>"

Origin keys are a soft correlation of unauthenticated callers. They are
salted so the raw address is never stored.

# Claims

Claims is the admin allow-list, keyed by identity lookup hash:

	claims := auth.NewClaims(hashes)
	claims.IsAdmin(voter.EmailHash)

# ID Generation

Random hex IDs for database records:

	id, err := auth.GenerateID(16)  // 32 hex characters
*/
package auth
