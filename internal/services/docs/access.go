package docs

import "go.mongodb.org/mongo-driver/v2/bson"

// Evaluate resolves the access level userID holds on doc. Pure
// function, no side effects; precedence:
//
//  1. soft-deleted documents are invisible to everyone but the owner
//  2. the owner always holds owner-level access
//  3. a collaborator entry grants its recorded level
//  4. public documents grant read to any authenticated user
//  5. otherwise no access
func Evaluate(doc *Document, userID bson.ObjectID) Permission {
	if doc == nil {
		return PermissionNone
	}
	if doc.IsDeleted && userID != doc.OwnerID {
		return PermissionNone
	}
	if userID == doc.OwnerID {
		return PermissionOwner
	}
	if c, ok := doc.Collaborator(userID); ok {
		return c.Permission
	}
	if doc.IsPublic {
		return PermissionRead
	}
	return PermissionNone
}
