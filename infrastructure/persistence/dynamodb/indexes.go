package dynamodb

// Global secondary index names shared between the stores and the schema
// provisioning code. ReferenceIndex, AuthorizationIdIndex and
// ScopeOwnerIndex are sparse: only items carrying the key attribute appear.
const (
	IndexClientID        = "ClientIdIndex"        // ClientID
	IndexRedirect        = "RedirectIndex"        // RedirectURI / RedirectType
	IndexSubject         = "SubjectIndex"         // Subject / SearchKey
	IndexApplication     = "ApplicationIndex"     // ApplicationID / CreationDate
	IndexReference       = "ReferenceIndex"       // ReferenceID
	IndexAuthorizationID = "AuthorizationIdIndex" // AuthorizationID
	IndexScopeOwner      = "ScopeOwnerIndex"      // ScopeID
)
