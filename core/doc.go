// Package core defines the domain contracts shared across Parley: the typed
// content-unit union emitted by an execution engine, the wire protocol spoken
// to clients, the conversation/turn data model, the collaborator interfaces
// (engine, persistent store, title service) and the error taxonomy.
//
// Higher-level packages (binding, translator, session, registry) depend only
// on these contracts; concrete engine adapters and store backends live in
// their own packages and are wired at construction time.
package core
