// Package auth provides account registration, login and access tokens for
// quotagate.
//
// # Overview
//
// Accounts are identified by email. A user either has a password (email
// registration) or a linked Google account, or both once a password user signs
// in with Google using the same email. Every new account starts on the FREE
// plan; the user row and its FREE subscription are created in one transaction.
//
// # Passwords
//
// BcryptHasher pre-hashes passwords with SHA-256 before bcrypt so that
// passwords longer than bcrypt's 72-byte limit are not silently truncated:
//
//	hasher := auth.NewBcryptHasher(bcrypt.DefaultCost)
//	hash, err := hasher.Hash("correct horse battery staple")
//	ok := hasher.Verify("correct horse battery staple", hash)
//
// # Access tokens
//
// TokenManager issues HS256 JWTs whose subject is the user ID:
//
//	tokens := auth.NewTokenManager(secret, auth.DefaultTokenTTL)
//	token, err := tokens.Issue(user.ID)
//	userID, err := tokens.Parse(token)
//
// # Authentication Flow
//
//	svc := auth.NewService(store, engine, hasher, tokens, auth.WithIdentityProvider(google))
//	user, err := svc.Register(ctx, "an@example.com", "secret1")
//	user, err = svc.Login(ctx, "an@example.com", "secret1")
//	user, err = svc.GoogleLogin(ctx, code)
package auth
