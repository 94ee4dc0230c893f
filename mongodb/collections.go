package mongodb

const (
	AgenciesCollection          = "agencies"
	ConnectionLinksCollection   = "connection_links"
	ConnectionResultsCollection = "connection_results"
	// UsersCollection is owned by the identity layer; it is only read here.
	UsersCollection = "users"
)
