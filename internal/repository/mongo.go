package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketstore/internal/database"
	"marketstore/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoOptions configures NewMongoHandler.
type MongoOptions struct {
	URI               string
	Database          string
	MaxPoolSize       int
	MinIdle           int
	MaxIdleTime       time.Duration
	ConnectionTimeout time.Duration
}

// MongoHandler serves every entity from one MongoDB database.
type MongoHandler struct {
	client   *mongo.Client
	db       *mongo.Database
	registry *Registry
	timeout  time.Duration
	log      *zap.Logger

	listings *ListingMongo
	boxes    *CollectionBoxMongo
	expired  *ExpiredItemsMongo
	history  *HistoryMongo
}

var _ DataHandler = (*MongoHandler)(nil)

// NewMongoHandler connects, verifies the connection and registers the Mongo Daos.
func NewMongoHandler(ctx context.Context, opts MongoOptions, log *zap.Logger) (*MongoHandler, error) {
	if opts.ConnectionTimeout <= 0 {
		opts.ConnectionTimeout = 5 * time.Second
	}
	log = log.Named("mongo")

	clientOpts := options.Client().
		ApplyURI(opts.URI).
		SetConnectTimeout(opts.ConnectionTimeout).
		SetServerSelectionTimeout(opts.ConnectionTimeout).
		SetRetryWrites(true)
	if opts.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(uint64(opts.MaxPoolSize))
	}
	if opts.MinIdle > 0 {
		clientOpts.SetMinPoolSize(uint64(opts.MinIdle))
	}
	if opts.MaxIdleTime > 0 {
		clientOpts.SetMaxConnIdleTime(opts.MaxIdleTime)
	}

	cctx, cancel := context.WithTimeout(ctx, opts.ConnectionTimeout)
	defer cancel()

	client, err := mongo.Connect(cctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(opts.Database)
	h := &MongoHandler{
		client:   client,
		db:       db,
		registry: NewRegistry(),
		timeout:  opts.ConnectionTimeout,
		log:      log,
	}
	h.listings = &ListingMongo{coll: db.Collection(listingTable), timeout: h.timeout}
	h.boxes = &CollectionBoxMongo{c: newContainerMongo(db, collectionTable, h.timeout, true)}
	h.expired = &ExpiredItemsMongo{c: newContainerMongo(db, expiredTable, h.timeout, false)}
	h.history = &HistoryMongo{coll: db.Collection(historyTable), timeout: h.timeout}

	for _, name := range []string{collectionTable, expiredTable, historyTable} {
		_, err := db.Collection(name).Indexes().CreateOne(cctx, mongo.IndexModel{
			Keys: bson.D{{Key: "player", Value: 1}},
		})
		if err != nil {
			log.Warn("failed to create index", zap.String("collection", name), zap.Error(err))
		}
	}

	Register[model.Listing](h.registry, EntityListing, h.listings)
	Register[model.CollectionBox](h.registry, EntityCollectionBox, h.boxes)
	Register[model.ExpiredItems](h.registry, EntityExpiredItems, h.expired)
	Register[model.History](h.registry, EntityHistory, h.history)

	log.Info("connected", zap.String("database", opts.Database))
	return h, nil
}

func (h *MongoHandler) Type() database.DatabaseType { return database.Mongo }

func (h *MongoHandler) Registry() *Registry { return h.registry }

func (h *MongoHandler) Listings() Dao[model.Listing] {
	return Lookup[model.Listing](h.registry, EntityListing)
}

func (h *MongoHandler) CollectionBoxes() Dao[model.CollectionBox] {
	return Lookup[model.CollectionBox](h.registry, EntityCollectionBox)
}

func (h *MongoHandler) ExpiredItems() Dao[model.ExpiredItems] {
	return Lookup[model.ExpiredItems](h.registry, EntityExpiredItems)
}

func (h *MongoHandler) History() Dao[model.History] {
	return Lookup[model.History](h.registry, EntityHistory)
}

// Cull deletes collected documents of both containers last updated before olderThan.
func (h *MongoHandler) Cull(ctx context.Context, olderThan time.Time) (int64, error) {
	filter := bson.M{"collected": true, "last_updated": bson.M{"$lt": olderThan.UnixMilli()}}
	var total int64
	for _, name := range []string{collectionTable, expiredTable} {
		cctx, cancel := context.WithTimeout(ctx, h.timeout)
		res, err := h.db.Collection(name).DeleteMany(cctx, filter)
		cancel()
		if err != nil {
			h.log.Error("failed to cull collected items", zap.String("collection", name), zap.Error(err))
			return total, fmt.Errorf("failed to cull %s: %w", name, err)
		}
		total += res.DeletedCount
	}
	if total > 0 {
		h.log.Info("culled collected items", zap.Int64("documents", total), zap.Time("older_than", olderThan))
	}
	return total, nil
}

func (h *MongoHandler) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.client.Ping(ctx, nil)
}

func (h *MongoHandler) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	return h.client.Disconnect(ctx)
}

type bidDoc struct {
	Bidder string `bson:"bidder"`
	Amount string `bson:"amount"`
	Placed int64  `bson:"placed"`
}

type listingDoc struct {
	ID           string   `bson:"_id"`
	Owner        string   `bson:"owner"`
	OwnerName    string   `bson:"owner_name"`
	Item         string   `bson:"item"`
	Category     string   `bson:"category"`
	Currency     string   `bson:"currency"`
	Price        string   `bson:"price"`
	Tax          string   `bson:"tax"`
	CreationDate int64    `bson:"creation_date"`
	DeletionDate int64    `bson:"deletion_date"`
	Biddable     bool     `bson:"biddable"`
	Bids         []bidDoc `bson:"bids"`
}

func toListingDoc(l model.Listing) listingDoc {
	bids := make([]bidDoc, len(l.Bids))
	for i, b := range l.Bids {
		bids[i] = bidDoc{Bidder: b.Bidder.String(), Amount: b.Amount.String(), Placed: b.Placed}
	}
	return listingDoc{
		ID:           l.ID.String(),
		Owner:        l.Owner.String(),
		OwnerName:    l.OwnerName,
		Item:         l.Item,
		Category:     l.Category,
		Currency:     l.Currency,
		Price:        l.Price.String(),
		Tax:          l.Tax.String(),
		CreationDate: l.CreationDate,
		DeletionDate: l.DeletionDate,
		Biddable:     l.Biddable,
		Bids:         bids,
	}
}

func (d listingDoc) listing() (model.Listing, error) {
	var (
		l   model.Listing
		err error
	)
	if l.ID, err = uuid.Parse(d.ID); err != nil {
		return l, fmt.Errorf("bad listing id %q: %w", d.ID, err)
	}
	if l.Owner, err = uuid.Parse(d.Owner); err != nil {
		return l, fmt.Errorf("bad owner of %s: %w", d.ID, err)
	}
	if l.Price, err = decimal.NewFromString(d.Price); err != nil {
		return l, fmt.Errorf("bad price of %s: %w", d.ID, err)
	}
	if l.Tax, err = decimal.NewFromString(d.Tax); err != nil {
		return l, fmt.Errorf("bad tax of %s: %w", d.ID, err)
	}
	l.OwnerName, l.Item, l.Category, l.Currency = d.OwnerName, d.Item, d.Category, d.Currency
	l.CreationDate, l.DeletionDate, l.Biddable = d.CreationDate, d.DeletionDate, d.Biddable
	for _, b := range d.Bids {
		bidder, err := uuid.Parse(b.Bidder)
		if err != nil {
			return l, fmt.Errorf("bad bidder on %s: %w", d.ID, err)
		}
		amount, err := decimal.NewFromString(b.Amount)
		if err != nil {
			return l, fmt.Errorf("bad bid amount on %s: %w", d.ID, err)
		}
		l.Bids = append(l.Bids, model.Bid{Bidder: bidder, Amount: amount, Placed: b.Placed})
	}
	return l, nil
}

// ListingMongo stores listings in the market_listings collection.
type ListingMongo struct {
	coll    *mongo.Collection
	timeout time.Duration
}

var _ Dao[model.Listing] = (*ListingMongo)(nil)

func (r *ListingMongo) Get(ctx context.Context, id uuid.UUID) (model.Listing, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var doc listingDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.Listing{}, false, nil
	}
	if err != nil {
		return model.Listing{}, false, fmt.Errorf("failed to get listing: %w", err)
	}
	l, err := doc.listing()
	return l, err == nil, err
}

func (r *ListingMongo) GetAll(ctx context.Context) ([]model.Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var docs []listingDoc
	if err := findAll(ctx, r.coll, bson.M{}, nil, &docs); err != nil {
		return nil, fmt.Errorf("failed to get listings: %w", err)
	}
	out := make([]model.Listing, 0, len(docs))
	for _, d := range docs {
		l, err := d.listing()
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func (r *ListingMongo) Save(ctx context.Context, l model.Listing) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	doc := toListingDoc(l)
	_, err := r.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save listing: %w", err)
	}
	return nil
}

func (r *ListingMongo) Update(ctx context.Context, l model.Listing, fields ...string) error {
	if len(fields) == 0 {
		return r.Save(ctx, l)
	}
	set, err := pickFields(toListingDoc(l), fields)
	if err != nil {
		return fmt.Errorf("listing: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if _, err := r.coll.UpdateOne(ctx, bson.M{"_id": l.ID.String()}, bson.M{"$set": set}); err != nil {
		return fmt.Errorf("failed to update listing: %w", err)
	}
	return nil
}

func (r *ListingMongo) Delete(ctx context.Context, l model.Listing) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if _, err := r.coll.DeleteOne(ctx, bson.M{"_id": l.ID.String()}); err != nil {
		return fmt.Errorf("failed to delete listing: %w", err)
	}
	return nil
}

// DeleteSpecific withdraws the bids placed by the bidder named in selector.
func (r *ListingMongo) DeleteSpecific(ctx context.Context, l model.Listing, selector any) error {
	bidder, ok := selector.(uuid.UUID)
	if !ok {
		return fmt.Errorf("%w: listing selector %T", ErrUnsupported, selector)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": l.ID.String()},
		bson.M{"$pull": bson.M{"bids": bson.M{"bidder": bidder.String()}}})
	if err != nil {
		return fmt.Errorf("failed to withdraw bid: %w", err)
	}
	return nil
}

type entryDoc struct {
	ID          string `bson:"_id"`
	Owner       string `bson:"owner,omitempty"`
	Player      string `bson:"player"`
	Item        string `bson:"item"`
	LastUpdated int64  `bson:"last_updated"`
	DateAdded   int64  `bson:"date_added"`
	Collected   bool   `bson:"collected"`
}

func (d entryDoc) collectable() (model.CollectableItem, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return model.CollectableItem{}, fmt.Errorf("bad item id %q: %w", d.ID, err)
	}
	owner := d.Player
	if d.Owner != "" {
		owner = d.Owner
	}
	o, err := uuid.Parse(owner)
	if err != nil {
		return model.CollectableItem{}, fmt.Errorf("bad owner of %s: %w", d.ID, err)
	}
	return model.CollectableItem{ID: id, Owner: o, Item: d.Item, DateAdded: d.DateAdded}, nil
}

type containerMongo struct {
	coll      *mongo.Collection
	name      string
	timeout   time.Duration
	withOwner bool
}

func newContainerMongo(db *mongo.Database, name string, timeout time.Duration, withOwner bool) *containerMongo {
	return &containerMongo{coll: db.Collection(name), name: name, timeout: timeout, withOwner: withOwner}
}

func (c *containerMongo) items(ctx context.Context, filter bson.M) ([]uuid.UUID, map[uuid.UUID][]model.CollectableItem, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	filter["collected"] = false
	var docs []entryDoc
	sort := options.Find().SetSort(bson.D{{Key: "player", Value: 1}, {Key: "date_added", Value: 1}})
	if err := findAll(ctx, c.coll, filter, sort, &docs); err != nil {
		return nil, nil, fmt.Errorf("failed to get %s: %w", c.name, err)
	}

	var order []uuid.UUID
	grouped := make(map[uuid.UUID][]model.CollectableItem)
	for _, d := range docs {
		player, err := uuid.Parse(d.Player)
		if err != nil {
			return nil, nil, fmt.Errorf("bad player %q: %w", d.Player, err)
		}
		it, err := d.collectable()
		if err != nil {
			return nil, nil, err
		}
		if _, ok := grouped[player]; !ok {
			order = append(order, player)
		}
		grouped[player] = append(grouped[player], it)
	}
	return order, grouped, nil
}

func (c *containerMongo) save(ctx context.Context, player uuid.UUID, items []model.CollectableItem) error {
	if len(items) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	now := time.Now().UnixMilli()
	models := make([]mongo.WriteModel, len(items))
	for i, it := range items {
		doc := entryDoc{
			ID:          it.ID.String(),
			Player:      player.String(),
			Item:        it.Item,
			LastUpdated: now,
			DateAdded:   it.DateAdded,
		}
		if c.withOwner {
			doc.Owner = it.Owner.String()
		}
		models[i] = mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": doc.ID}).
			SetReplacement(doc).
			SetUpsert(true)
	}
	if _, err := c.coll.BulkWrite(ctx, models); err != nil {
		return fmt.Errorf("failed to save %s: %w", c.name, err)
	}
	return nil
}

func (c *containerMongo) update(ctx context.Context, player uuid.UUID, items []model.CollectableItem, fields []string) error {
	if len(fields) == 0 {
		return c.save(ctx, player, items)
	}
	now := time.Now().UnixMilli()
	models := make([]mongo.WriteModel, 0, len(items))
	for _, it := range items {
		set, err := c.fieldSet(it, fields, now)
		if err != nil {
			return err
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": it.ID.String(), "player": player.String()}).
			SetUpdate(bson.M{"$set": set}))
	}
	if len(models) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if _, err := c.coll.BulkWrite(ctx, models); err != nil {
		return fmt.Errorf("failed to update %s: %w", c.name, err)
	}
	return nil
}

// fieldSet builds the $set document for the named fields of it.
func (c *containerMongo) fieldSet(it model.CollectableItem, fields []string, now int64) (bson.M, error) {
	set := bson.M{"last_updated": now}
	for _, f := range fields {
		switch {
		case f == "item":
			set[f] = it.Item
		case f == "date_added":
			set[f] = it.DateAdded
		case f == "owner" && c.withOwner:
			set[f] = it.Owner.String()
		default:
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, c.name, f)
		}
	}
	return set, nil
}

// claimFilter matches the item only while it is still uncollected.
func claimFilter(player, id uuid.UUID) bson.M {
	return bson.M{"_id": id.String(), "player": player.String(), "collected": false}
}

func (c *containerMongo) markCollected(ctx context.Context, filter bson.M) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	update := bson.M{"$set": bson.M{"collected": true, "last_updated": time.Now().UnixMilli()}}
	if _, err := c.coll.UpdateMany(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to collect from %s: %w", c.name, err)
	}
	return nil
}

func (c *containerMongo) markItemCollected(ctx context.Context, player uuid.UUID, selector any) error {
	id, err := itemSelector(selector)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	res, err := c.coll.UpdateOne(ctx, claimFilter(player, id),
		bson.M{"$set": bson.M{"collected": true, "last_updated": time.Now().UnixMilli()}})
	if err != nil {
		return fmt.Errorf("failed to collect item from %s: %w", c.name, err)
	}
	if res.ModifiedCount != 1 {
		return fmt.Errorf("%w: item %s of %s in %s", ErrNotFound, id, player, c.name)
	}
	return nil
}

// CollectionBoxMongo stores collection boxes in the items collection.
type CollectionBoxMongo struct {
	c *containerMongo
}

var _ Dao[model.CollectionBox] = (*CollectionBoxMongo)(nil)

func (r *CollectionBoxMongo) Get(ctx context.Context, player uuid.UUID) (model.CollectionBox, bool, error) {
	_, grouped, err := r.c.items(ctx, bson.M{"player": player.String()})
	if err != nil {
		return model.CollectionBox{}, false, err
	}
	items := grouped[player]
	return model.CollectionBox{Player: player, Items: items}, len(items) > 0, nil
}

func (r *CollectionBoxMongo) GetAll(ctx context.Context) ([]model.CollectionBox, error) {
	order, grouped, err := r.c.items(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	out := make([]model.CollectionBox, len(order))
	for i, p := range order {
		out[i] = model.CollectionBox{Player: p, Items: grouped[p]}
	}
	return out, nil
}

func (r *CollectionBoxMongo) Save(ctx context.Context, b model.CollectionBox) error {
	return r.c.save(ctx, b.Player, b.Items)
}

func (r *CollectionBoxMongo) Update(ctx context.Context, b model.CollectionBox, fields ...string) error {
	return r.c.update(ctx, b.Player, b.Items, fields)
}

func (r *CollectionBoxMongo) Delete(ctx context.Context, b model.CollectionBox) error {
	return r.c.markCollected(ctx, bson.M{"player": b.Player.String()})
}

func (r *CollectionBoxMongo) DeleteSpecific(ctx context.Context, b model.CollectionBox, selector any) error {
	return r.c.markItemCollected(ctx, b.Player, selector)
}

// ExpiredItemsMongo stores returned items in the expired collection.
type ExpiredItemsMongo struct {
	c *containerMongo
}

var _ Dao[model.ExpiredItems] = (*ExpiredItemsMongo)(nil)

func (r *ExpiredItemsMongo) Get(ctx context.Context, player uuid.UUID) (model.ExpiredItems, bool, error) {
	_, grouped, err := r.c.items(ctx, bson.M{"player": player.String()})
	if err != nil {
		return model.ExpiredItems{}, false, err
	}
	items := grouped[player]
	return model.ExpiredItems{Player: player, Items: items}, len(items) > 0, nil
}

func (r *ExpiredItemsMongo) GetAll(ctx context.Context) ([]model.ExpiredItems, error) {
	order, grouped, err := r.c.items(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	out := make([]model.ExpiredItems, len(order))
	for i, p := range order {
		out[i] = model.ExpiredItems{Player: p, Items: grouped[p]}
	}
	return out, nil
}

func (r *ExpiredItemsMongo) Save(ctx context.Context, e model.ExpiredItems) error {
	return r.c.save(ctx, e.Player, e.Items)
}

func (r *ExpiredItemsMongo) Update(ctx context.Context, e model.ExpiredItems, fields ...string) error {
	return r.c.update(ctx, e.Player, e.Items, fields)
}

func (r *ExpiredItemsMongo) Delete(ctx context.Context, e model.ExpiredItems) error {
	return r.c.markCollected(ctx, bson.M{"player": e.Player.String()})
}

func (r *ExpiredItemsMongo) DeleteSpecific(ctx context.Context, e model.ExpiredItems, selector any) error {
	return r.c.markItemCollected(ctx, e.Player, selector)
}

type historyDoc struct {
	ID          string `bson:"_id"`
	Player      string `bson:"player"`
	Action      string `bson:"action"`
	ListingID   string `bson:"listing_id"`
	Item        string `bson:"item"`
	Price       string `bson:"price"`
	Counterpart string `bson:"counterpart,omitempty"`
	LoggedAt    int64  `bson:"logged_at"`
}

// HistoryMongo is the append-only history collection.
type HistoryMongo struct {
	coll    *mongo.Collection
	timeout time.Duration
}

var _ Dao[model.History] = (*HistoryMongo)(nil)

func (r *HistoryMongo) find(ctx context.Context, filter bson.M) ([]model.History, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var docs []historyDoc
	sort := options.Find().SetSort(bson.D{{Key: "player", Value: 1}, {Key: "logged_at", Value: 1}})
	if err := findAll(ctx, r.coll, filter, sort, &docs); err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}

	var out []model.History
	index := make(map[string]int)
	for _, d := range docs {
		e, err := d.entry()
		if err != nil {
			return nil, err
		}
		i, ok := index[d.Player]
		if !ok {
			player, err := uuid.Parse(d.Player)
			if err != nil {
				return nil, fmt.Errorf("bad history player %q: %w", d.Player, err)
			}
			i = len(out)
			index[d.Player] = i
			out = append(out, model.History{Player: player})
		}
		out[i].Entries = append(out[i].Entries, e)
	}
	return out, nil
}

func (d historyDoc) entry() (model.HistoricItem, error) {
	var (
		e   model.HistoricItem
		err error
	)
	if e.ID, err = uuid.Parse(d.ID); err != nil {
		return e, fmt.Errorf("bad history id %q: %w", d.ID, err)
	}
	if e.ListingID, err = uuid.Parse(d.ListingID); err != nil {
		return e, fmt.Errorf("bad listing id on %s: %w", d.ID, err)
	}
	if e.Price, err = decimal.NewFromString(d.Price); err != nil {
		return e, fmt.Errorf("bad price on %s: %w", d.ID, err)
	}
	if d.Counterpart != "" {
		c, err := uuid.Parse(d.Counterpart)
		if err != nil {
			return e, fmt.Errorf("bad counterpart on %s: %w", d.ID, err)
		}
		e.Counterpart = &c
	}
	e.Action, e.Item, e.LoggedAt = model.Action(d.Action), d.Item, d.LoggedAt
	return e, nil
}

func (r *HistoryMongo) Get(ctx context.Context, player uuid.UUID) (model.History, bool, error) {
	all, err := r.find(ctx, bson.M{"player": player.String()})
	if err != nil || len(all) == 0 {
		return model.History{Player: player}, false, err
	}
	return all[0], true, nil
}

func (r *HistoryMongo) GetAll(ctx context.Context) ([]model.History, error) {
	return r.find(ctx, bson.M{})
}

// Save appends the entries of h; entries already stored are skipped.
func (r *HistoryMongo) Save(ctx context.Context, h model.History) error {
	if len(h.Entries) == 0 {
		return nil
	}
	docs := make([]any, len(h.Entries))
	for i, e := range h.Entries {
		d := historyDoc{
			ID:        e.ID.String(),
			Player:    h.Player.String(),
			Action:    string(e.Action),
			ListingID: e.ListingID.String(),
			Item:      e.Item,
			Price:     e.Price.String(),
			LoggedAt:  e.LoggedAt,
		}
		if e.Counterpart != nil {
			d.Counterpart = e.Counterpart.String()
		}
		docs[i] = d
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	_, err := r.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func (r *HistoryMongo) Update(ctx context.Context, h model.History, fields ...string) error {
	return fmt.Errorf("%w: history of %s", ErrImmutable, h.Player)
}

func (r *HistoryMongo) Delete(ctx context.Context, h model.History) error {
	return fmt.Errorf("%w: history of %s", ErrImmutable, h.Player)
}

func (r *HistoryMongo) DeleteSpecific(ctx context.Context, h model.History, selector any) error {
	return fmt.Errorf("%w: history of %s", ErrImmutable, h.Player)
}

func findAll(ctx context.Context, coll *mongo.Collection, filter bson.M, opts *options.FindOptions, out any) error {
	var cursor *mongo.Cursor
	var err error
	if opts != nil {
		cursor, err = coll.Find(ctx, filter, opts)
	} else {
		cursor, err = coll.Find(ctx, filter)
	}
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)
	return cursor.All(ctx, out)
}

// pickFields renders doc to BSON and keeps only the named top-level keys.
func pickFields(doc any, fields []string) (bson.M, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var all bson.M
	if err := bson.Unmarshal(raw, &all); err != nil {
		return nil, err
	}
	set := bson.M{}
	for _, f := range fields {
		v, ok := all[f]
		if !ok || f == "_id" {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, f)
		}
		set[f] = v
	}
	return set, nil
}
