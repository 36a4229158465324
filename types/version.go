package types

// Version is the canonical project version.
// The CLI, the daemon and the IPC contract share this version
// per the lockstep versioning policy.
const Version = "0.3.0"

// ProtocolVersion is the version of the client-facing progress event shape
// and of the daemon frame contract. Bumped only on breaking shape changes.
const ProtocolVersion = "1"
