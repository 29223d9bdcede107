package repository

import (
	"testing"

	"marketstore/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestListingDocRoundTrip(t *testing.T) {
	bidder := uuid.New()
	tests := []struct {
		name string
		in   model.Listing
	}{
		{"plain", testListing()},
		{"fractional price", func() model.Listing {
			l := testListing()
			l.Price = decimal.RequireFromString("1234.5678")
			l.Tax = decimal.RequireFromString("0.01")
			return l
		}()},
		{"with bids", func() model.Listing {
			l := testListing()
			l.Biddable = true
			l.Bids = []model.Bid{
				{Bidder: bidder, Amount: decimal.RequireFromString("10.25"), Placed: 1},
				{Bidder: uuid.New(), Amount: decimal.NewFromInt(12), Placed: 2},
			}
			return l
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := toListingDoc(tt.in)
			assert.Equal(t, tt.in.Price.String(), doc.Price)

			got, err := doc.listing()
			require.NoError(t, err)
			assert.Equal(t, tt.in.ID, got.ID)
			assert.Equal(t, tt.in.Owner, got.Owner)
			assert.Equal(t, tt.in.Item, got.Item)
			assert.Equal(t, tt.in.Biddable, got.Biddable)
			assert.True(t, tt.in.Price.Equal(got.Price), "price %s != %s", tt.in.Price, got.Price)
			assert.True(t, tt.in.Tax.Equal(got.Tax), "tax %s != %s", tt.in.Tax, got.Tax)
			require.Len(t, got.Bids, len(tt.in.Bids))
			for i, b := range tt.in.Bids {
				assert.Equal(t, b.Bidder, got.Bids[i].Bidder)
				assert.True(t, b.Amount.Equal(got.Bids[i].Amount))
				assert.Equal(t, b.Placed, got.Bids[i].Placed)
			}
		})
	}
}

func TestListingDocRejectsBadValues(t *testing.T) {
	good := toListingDoc(testListing())
	tests := []struct {
		name   string
		mutate func(*listingDoc)
	}{
		{"id", func(d *listingDoc) { d.ID = "nope" }},
		{"owner", func(d *listingDoc) { d.Owner = "" }},
		{"price", func(d *listingDoc) { d.Price = "ten" }},
		{"tax", func(d *listingDoc) { d.Tax = "" }},
		{"bidder", func(d *listingDoc) { d.Bids = []bidDoc{{Bidder: "x", Amount: "1"}} }},
		{"bid amount", func(d *listingDoc) { d.Bids = []bidDoc{{Bidder: uuid.NewString(), Amount: "x"}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := good
			d.Bids = nil
			tt.mutate(&d)
			_, err := d.listing()
			assert.Error(t, err)
		})
	}
}

func TestEntryDocOwnerFallsBackToPlayer(t *testing.T) {
	player, owner, id := uuid.New(), uuid.New(), uuid.New()
	tests := []struct {
		name string
		doc  entryDoc
		want uuid.UUID
	}{
		{"collection box", entryDoc{ID: id.String(), Owner: owner.String(), Player: player.String()}, owner},
		{"expired items", entryDoc{ID: id.String(), Player: player.String()}, player},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it, err := tt.doc.collectable()
			require.NoError(t, err)
			assert.Equal(t, id, it.ID)
			assert.Equal(t, tt.want, it.Owner)
		})
	}

	_, err := entryDoc{ID: "bad", Player: player.String()}.collectable()
	assert.Error(t, err)
	_, err = entryDoc{ID: id.String(), Player: "bad"}.collectable()
	assert.Error(t, err)
}

func TestPickFields(t *testing.T) {
	doc := toListingDoc(testListing())
	tests := []struct {
		name    string
		fields  []string
		want    bson.M
		wantErr bool
	}{
		{"single", []string{"item"}, bson.M{"item": doc.Item}, false},
		{"several", []string{"price", "tax"}, bson.M{"price": doc.Price, "tax": doc.Tax}, false},
		{"unknown", []string{"colour"}, nil, true},
		{"primary key", []string{"_id"}, nil, true},
		{"go name", []string{"OwnerName"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pickFields(doc, tt.fields)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownField)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContainerFieldSet(t *testing.T) {
	it := model.CollectableItem{ID: uuid.New(), Owner: uuid.New(), Item: "stone", DateAdded: 7}
	boxes := &containerMongo{name: collectionTable, withOwner: true}
	expired := &containerMongo{name: expiredTable}

	tests := []struct {
		name    string
		c       *containerMongo
		fields  []string
		want    bson.M
		wantErr bool
	}{
		{"item", boxes, []string{"item"}, bson.M{"item": "stone", "last_updated": int64(99)}, false},
		{"owner on boxes", boxes, []string{"owner", "date_added"}, bson.M{"owner": it.Owner.String(), "date_added": int64(7), "last_updated": int64(99)}, false},
		{"owner on expired", expired, []string{"owner"}, nil, true},
		{"collected is not writable", boxes, []string{"collected"}, nil, true},
		{"unknown", expired, []string{"price"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.c.fieldSet(it, tt.fields, 99)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownField)
				assert.Contains(t, err.Error(), tt.c.name)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClaimFilterRequiresUncollected(t *testing.T) {
	player, id := uuid.New(), uuid.New()
	assert.Equal(t, bson.M{"_id": id.String(), "player": player.String(), "collected": false}, claimFilter(player, id))
}
