// Package domain defines the core types shared by the challenge-resolution
// pipeline and the session state machine.
//
// This package has ZERO dependencies outside the Go standard library. Recognition
// (vision, classifier, captcha), transport (portal) and orchestration (session,
// collect) packages all depend on these types; the dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
package domain
