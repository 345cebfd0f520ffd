package canonical

// Field aliases in precedence order. The first alias holding a usable value
// wins; keep the French names first since the till sends those.
var (
	invoiceNumberKeys = []string{"numero_facture", "invoiceNumber", "invoice_number", "numeroFacture", "numero", "invoiceId"}
	dateKeys          = []string{"date_facture", "date", "invoiceDate", "invoice_date"}
	customerKeys      = []string{"client", "nom_client", "customerName", "customer_name", "customer"}
	totalKeys         = []string{"montant_ttc", "total_ttc", "totalTTC", "amount", "total"}
	paymentKeys       = []string{"mode_paiement", "paymentMethod", "payment_method", "paiement"}
	vendorNameKeys    = []string{"vendeur", "vendorName", "vendor_name", "salesperson", "vendor"}
	vendorIDKeys      = []string{"vendorId", "vendor_id", "id_vendeur"}
	lineItemsKeys     = []string{"lignes", "lineItems", "line_items", "items", "articles"}

	lineNameKeys     = []string{"designation", "libelle", "name", "produit", "label"}
	lineQuantityKeys = []string{"quantite", "qty", "quantity"}
	lineTTCKeys      = []string{"prix_unitaire_ttc", "prix_ttc", "unitPriceTTC", "unit_price_ttc", "unitPrice", "price"}
	lineHTKeys       = []string{"prix_unitaire_ht", "prix_ht", "unitPriceHT", "unit_price_ht"}
	lineDiscountKeys = []string{"remise", "discount", "remise_pct"}

	// envelopeKeys wrap the invoice fields one level down in some callers.
	envelopeKeys = []string{"invoice", "facture", "data"}
)
