package driver

const (
	// SaveConceptQuery upserts one (user, concept) mastery node. Status is
	// "mastered" or "struggling"; updated_at carries the observation time.
	SaveConceptQuery = `
		MERGE (c:Concept {name: $name, user_id: $user_id})
		SET c.status = $status,
			c.updated_at = $updated_at
		RETURN c.name AS name
	`

	// SavePrerequisiteQuery links a concept to one of its prerequisites.
	// Prerequisite edges are shared knowledge, so they carry no user id.
	SavePrerequisiteQuery = `
		MERGE (c:Topic {name: $name})
		MERGE (p:Topic {name: $prerequisite})
		MERGE (c)-[r:REQUIRES]->(p)
		SET r.updated_at = $updated_at
		RETURN c.name AS name
	`

	// GetConceptsQuery returns all mastery nodes for a user, used to
	// rehydrate a knowledge graph after restart.
	GetConceptsQuery = `
		MATCH (c:Concept {user_id: $user_id})
		RETURN c.name AS name, c.status AS status
	`

	// GetPrerequisitesQuery returns the declared prerequisites of a topic.
	GetPrerequisitesQuery = `
		MATCH (c:Topic {name: $name})-[:REQUIRES]->(p:Topic)
		RETURN p.name AS prerequisite
	`
)
