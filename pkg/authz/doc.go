// Package authz resolves row-level authorization decisions for multi-tenant
// services. It merges role-attached and user-attached data-scope grants into
// one effective permission per resource key, unions role and user resource
// codes into action-permission sets, and caches both under per-user key
// families so grant mutations can evict them with a single pattern.
//
// Resolution is read-only over the Repository; grant writes happen in the
// surrounding role and user management services, which publish mutation
// events that the Invalidator consumes.
package authz
