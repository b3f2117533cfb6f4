package domain

import "github.com/shopspring/decimal"

// Well-known achievement boost identifiers.
const (
	AchievementFirstTrade      = "first_trade"
	AchievementTreePlanter     = "tree_planter"
	AchievementCarbonChampion  = "carbon_champion"
	AchievementYieldMaster     = "yield_master"
	AchievementCommunityLeader = "community_leader"
)

// BoostGrant is a non-transferable yield boost held by one holder.
// Grants are immutable and never revoked by the ledger.
type BoostGrant struct {
	Holder     string
	BoostID    string
	Percentage decimal.Decimal // 10 means +10%
	GrantedAt  int64           // Unix ms
}

// BoostMultiplier returns 1 + sum(percentages)/100.
func BoostMultiplier(grants []*BoostGrant) decimal.Decimal {
	sum := decimal.Zero
	for _, g := range grants {
		sum = sum.Add(g.Percentage)
	}
	return decimal.NewFromInt(1).Add(sum.Div(decimal.NewFromInt(100)))
}

// Rarity grades an achievement.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// Achievement is a catalog entry describing a boost a holder can earn.
type Achievement struct {
	ID         string
	Name       string
	Percentage decimal.Decimal
	Rarity     Rarity
}

// AchievementCatalog lists the well-known achievements and their default boost.
var AchievementCatalog = map[string]Achievement{
	AchievementFirstTrade:      {ID: AchievementFirstTrade, Name: "First Trade", Percentage: decimal.NewFromInt(1), Rarity: RarityCommon},
	AchievementTreePlanter:     {ID: AchievementTreePlanter, Name: "Tree Planter", Percentage: decimal.NewFromInt(3), Rarity: RarityRare},
	AchievementCarbonChampion:  {ID: AchievementCarbonChampion, Name: "Carbon Champion", Percentage: decimal.NewFromInt(5), Rarity: RarityEpic},
	AchievementYieldMaster:     {ID: AchievementYieldMaster, Name: "Yield Master", Percentage: decimal.NewFromInt(5), Rarity: RarityEpic},
	AchievementCommunityLeader: {ID: AchievementCommunityLeader, Name: "Community Leader", Percentage: decimal.NewFromInt(10), Rarity: RarityLegendary},
}
