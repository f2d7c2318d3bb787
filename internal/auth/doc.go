// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlacePulse Contributors

// Package auth implements the account authentication core: registration
// gated by email verification, credential login with adaptive rate
// limiting, multi-device session tracking with selective and bulk
// revocation, and single-use secret tokens for email verification and
// password reset.
//
// # Domain Types
//
// Domain types (User, SecretToken, Session, LoginAttempt) should be
// created through their constructors:
//   - NewUser - validated username, email and password hash
//   - NewSecretToken - validated owner, purpose and token hash
//   - NewSession - validated owner and session key
//
// Direct struct initialization bypasses validation and may create invalid
// state. Repository implementations receive pre-validated values from
// these constructors.
//
// # Services
//
// Service types coordinate domain operations:
//   - Service - the orchestrator for all account flows
//   - SecretTokenService - issue and redeem one-time secrets
//   - SessionRegistry - open, list and revoke sessions
//   - RateLimiter - failed-attempt tracking and lockouts
//
// Raw secrets (passwords, token plaintexts) are hashed before storage and
// never logged; services only hand a plaintext back once, at creation
// time.
package auth
