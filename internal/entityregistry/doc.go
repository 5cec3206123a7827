// Package entityregistry persists the stable identity of every entity.
//
// An entry maps (platform, domain, unique id) to an entity id that users
// and automations refer to. When a device changes its unique id scheme the
// entry is rewritten in place so the entity id survives.
//
// SQLiteRegistry implements entry.EntityRegistry.
package entityregistry
