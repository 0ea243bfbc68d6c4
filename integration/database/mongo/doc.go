// Package mongo provides MongoDB client initialization and health checking
// for the distributed rate limit store.
//
// Connect establishes a client with bounded retry and verifies
// connectivity with a ping before returning:
//
//	cfg := mongo.Config{ConnectionURL: "mongodb://localhost:27017", DatabaseName: "app"}
//	client, err := mongo.Connect(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Disconnect(context.Background())
//
//	store, err := ratelimiter.NewMongoStore(client.Database(cfg.DatabaseName))
//
// Healthcheck returns a probe function suitable for readiness endpoints.
package mongo
